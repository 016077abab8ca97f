package ledgertest

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/veralog-io/veralog-go/pkg/ledger"
	"github.com/veralog-io/veralog-go/pkg/schema"
)

type revision struct {
	tx    uint64
	value []byte
}

type binding struct {
	target []byte
	atTx   uint64
	tx     uint64
}

// Server is an in-process fake of the LedgerService, backed by a reference
// Ledger. It satisfies the client's Transport interface, so tests dial
// nothing. Every response is JSON round-tripped to exercise the wire tags
// the real codec relies on.
type Server struct {
	// Mutate, when set, is applied to each response before it is encoded
	// back to the caller. Tests use it to corrupt replies in flight.
	Mutate func(method string, resp any)

	// SignKey, when set, signs every state the server hands out.
	SignKey *ecdsa.PrivateKey

	// LastAuthorization records the authorization metadata of the most
	// recent call, for assertions on session handling.
	LastAuthorization string

	mu     sync.Mutex
	ledger *Ledger
	revs   map[string][]revision
	refs   map[string]binding
	token  string
	db     string
	closed bool
}

// NewServer returns a fake server over an empty ledger.
func NewServer() *Server {
	return &Server{
		ledger: New(),
		revs:   map[string][]revision{},
		refs:   map[string]binding{},
	}
}

// Ledger exposes the backing reference ledger for direct inspection.
func (s *Server) Ledger() *Ledger {
	return s.ledger
}

// Invoke implements unary dispatch over the fake. Health checks take the
// protobuf branch; everything else is JSON round-tripped exactly like the
// real transport would.
func (s *Server) Invoke(ctx context.Context, method string, args, reply any, _ ...grpc.CallOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return status.Error(codes.Unavailable, "server closed")
	}
	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		if v := md.Get("authorization"); len(v) > 0 {
			s.LastAuthorization = v[0]
		}
	}

	if method == healthpb.Health_Check_FullMethodName {
		r, ok := reply.(*healthpb.HealthCheckResponse)
		if !ok {
			return status.Error(codes.Internal, "unexpected health reply type")
		}
		r.Status = healthpb.HealthCheckResponse_SERVING
		return nil
	}

	resp, err := s.handle(method, args)
	if err != nil {
		return err
	}
	if s.Mutate != nil {
		s.Mutate(method, resp)
	}
	return reencode(resp, reply)
}

// NewStream implements grpc.ClientConnInterface; the fake serves no
// streaming methods.
func (s *Server) NewStream(ctx context.Context, desc *grpc.StreamDesc, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, status.Error(codes.Unimplemented, "streaming not supported")
}

// Close marks the server unavailable; later calls fail like a dropped
// connection.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// reencode simulates the wire: marshal one side, unmarshal the other.
func reencode(in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return status.Errorf(codes.Internal, "encode response: %v", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return status.Errorf(codes.Internal, "decode response: %v", err)
	}
	return nil
}

func (s *Server) handle(method string, args any) (any, error) {
	switch method {
	case schema.MethodLogin:
		req := &schema.LoginRequest{}
		if err := reencode(args, req); err != nil {
			return nil, err
		}
		return s.login(req)
	case schema.MethodLogout:
		s.token = ""
		return &schema.LogoutResponse{}, nil
	case schema.MethodUseDatabase:
		req := &schema.UseDatabaseRequest{}
		if err := reencode(args, req); err != nil {
			return nil, err
		}
		if req.Database == "" {
			return nil, status.Error(codes.InvalidArgument, "database name required")
		}
		s.db = req.Database
		return &schema.UseDatabaseReply{Token: s.token}, nil
	case schema.MethodCurrentState:
		return s.currentState(), nil
	case schema.MethodHealth:
		return &schema.HealthResponse{Status: "ok", Version: "dev"}, nil
	case schema.MethodGet:
		req := &schema.KeyRequest{}
		if err := reencode(args, req); err != nil {
			return nil, err
		}
		return s.resolve(req.Key, req.AtTx, req.SinceTx)
	case schema.MethodSet:
		req := &schema.SetRequest{}
		if err := reencode(args, req); err != nil {
			return nil, err
		}
		hdr, err := s.set(req)
		if err != nil {
			return nil, err
		}
		return wireHeader(hdr), nil
	case schema.MethodHistory:
		req := &schema.HistoryRequest{}
		if err := reencode(args, req); err != nil {
			return nil, err
		}
		return s.history(req)
	case schema.MethodVerifiableGet:
		req := &schema.VerifiableGetRequest{}
		if err := reencode(args, req); err != nil {
			return nil, err
		}
		return s.verifiableGet(req)
	case schema.MethodVerifiableSet:
		req := &schema.VerifiableSetRequest{}
		if err := reencode(args, req); err != nil {
			return nil, err
		}
		return s.verifiableSet(req)
	case schema.MethodVerifiableSetReference:
		req := &schema.VerifiableReferenceRequest{}
		if err := reencode(args, req); err != nil {
			return nil, err
		}
		return s.verifiableSetReference(req)
	case schema.MethodVerifiableZAdd:
		req := &schema.VerifiableZAddRequest{}
		if err := reencode(args, req); err != nil {
			return nil, err
		}
		return s.verifiableZAdd(req)
	case schema.MethodVerifiableTxByID:
		req := &schema.VerifiableTxRequest{}
		if err := reencode(args, req); err != nil {
			return nil, err
		}
		return s.verifiableTxByID(req)
	}
	return nil, status.Errorf(codes.Unimplemented, "unknown method %s", method)
}

// ── Plain handlers ───────────────────────────────────────────────────────

func (s *Server) login(req *schema.LoginRequest) (*schema.LoginResponse, error) {
	if req.User == "" {
		return nil, status.Error(codes.Unauthenticated, "user required")
	}
	s.token = uuid.NewString()
	resp := &schema.LoginResponse{Token: s.token}
	if req.Password == "admin" {
		resp.Warning = "default password in use"
	}
	return resp, nil
}

func (s *Server) currentState() *schema.LedgerState {
	st := &schema.LedgerState{Database: s.db}
	if size := s.ledger.Size(); size > 0 {
		alh := s.ledger.Alh(size)
		st.TxID = size
		st.TxHash = alh[:]
		st.Signature = s.signState(size, alh)
	}
	return st
}

func (s *Server) set(req *schema.SetRequest) (*ledger.TxHeader, error) {
	if len(req.KVs) == 0 {
		return nil, status.Error(codes.InvalidArgument, "no key-value pairs")
	}
	entries := make([]ledger.Entry, len(req.KVs))
	for i, kv := range req.KVs {
		if kv == nil || len(kv.Key) == 0 {
			return nil, status.Error(codes.InvalidArgument, "empty key")
		}
		entries[i] = &ledger.KV{Key: kv.Key, Value: kv.Value}
	}
	hdr := s.ledger.Add(entries...)
	for _, kv := range req.KVs {
		k := string(kv.Key)
		s.revs[k] = append(s.revs[k], revision{tx: hdr.ID, value: kv.Value})
		delete(s.refs, k)
	}
	return hdr, nil
}

func (s *Server) history(req *schema.HistoryRequest) (*schema.Entries, error) {
	revs := s.revs[string(req.Key)]
	if len(revs) == 0 {
		return nil, status.Error(codes.NotFound, "key not found")
	}
	entries := make([]*schema.Entry, 0, len(revs))
	for i, rev := range revs {
		entries = append(entries, &schema.Entry{
			Tx:       rev.tx,
			Key:      req.Key,
			Value:    rev.value,
			Revision: uint64(i + 1),
		})
	}
	if req.Desc {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}
	if req.Offset > 0 {
		if req.Offset >= uint64(len(entries)) {
			entries = nil
		} else {
			entries = entries[req.Offset:]
		}
	}
	if req.Limit > 0 && req.Limit < len(entries) {
		entries = entries[:req.Limit]
	}
	return &schema.Entries{Entries: entries}, nil
}

func (s *Server) resolve(key []byte, atTx, sinceTx uint64) (*schema.Entry, error) {
	if sinceTx > s.ledger.Size() {
		return nil, status.Error(codes.FailedPrecondition, "state not reached")
	}
	if b, ok := s.refs[string(key)]; ok {
		revs := s.revs[string(b.target)]
		idx, err := pickRevision(revs, b.atTx)
		if err != nil {
			return nil, err
		}
		return &schema.Entry{
			Tx:       revs[idx].tx,
			Key:      b.target,
			Value:    revs[idx].value,
			Revision: uint64(idx + 1),
			ReferencedBy: &schema.Reference{
				Tx:   b.tx,
				Key:  key,
				AtTx: b.atTx,
			},
		}, nil
	}
	revs := s.revs[string(key)]
	idx, err := pickRevision(revs, atTx)
	if err != nil {
		return nil, err
	}
	return &schema.Entry{
		Tx:       revs[idx].tx,
		Key:      key,
		Value:    revs[idx].value,
		Revision: uint64(idx + 1),
	}, nil
}

func pickRevision(revs []revision, atTx uint64) (int, error) {
	if len(revs) == 0 {
		return 0, status.Error(codes.NotFound, "key not found")
	}
	if atTx == 0 {
		return len(revs) - 1, nil
	}
	for i, rev := range revs {
		if rev.tx == atTx {
			return i, nil
		}
	}
	return 0, status.Error(codes.NotFound, "no revision at requested tx")
}

// ── Verifiable handlers ──────────────────────────────────────────────────

func (s *Server) verifiableGet(req *schema.VerifiableGetRequest) (*schema.VerifiableEntry, error) {
	if req.KeyRequest == nil {
		return nil, status.Error(codes.InvalidArgument, "key request required")
	}
	entry, err := s.resolve(req.KeyRequest.Key, req.KeyRequest.AtTx, req.KeyRequest.SinceTx)
	if err != nil {
		return nil, err
	}

	// The proven transaction is the one carrying the verified leaf: the
	// reference entry's when the lookup went through an alias.
	var proofTx uint64
	var leaf ledger.Entry
	if entry.ReferencedBy != nil {
		proofTx = entry.ReferencedBy.Tx
		leaf = &ledger.Reference{
			Key:         entry.ReferencedBy.Key,
			ReferredKey: entry.Key,
			AtTx:        entry.ReferencedBy.AtTx,
		}
	} else {
		proofTx = entry.Tx
		leaf = &ledger.KV{Key: entry.Key, Value: entry.Value}
	}
	idx := s.entryIndex(proofTx, leaf)
	if idx < 0 {
		return nil, status.Error(codes.Internal, "entry not present in its transaction")
	}

	dual, hi, err := s.dualProofSince(req.ProveSinceTx, proofTx)
	if err != nil {
		return nil, err
	}

	return &schema.VerifiableEntry{
		Entry: entry,
		VerifiableTx: &schema.VerifiableTx{
			Tx:        &schema.Tx{Header: wireHeader(s.ledger.Header(proofTx))},
			DualProof: dual,
			Signature: s.signState(hi, s.ledger.Alh(hi)),
		},
		InclusionProof: wireInclusion(s.ledger.InclusionProof(proofTx, idx)),
	}, nil
}

func (s *Server) verifiableSet(req *schema.VerifiableSetRequest) (*schema.VerifiableTx, error) {
	if req.SetRequest == nil {
		return nil, status.Error(codes.InvalidArgument, "set request required")
	}
	hdr, err := s.set(req.SetRequest)
	if err != nil {
		return nil, err
	}
	return s.verifiableWrite(hdr, req.ProveSinceTx)
}

func (s *Server) verifiableSetReference(req *schema.VerifiableReferenceRequest) (*schema.VerifiableTx, error) {
	r := req.ReferenceRequest
	if r == nil || len(r.Key) == 0 || len(r.ReferredKey) == 0 {
		return nil, status.Error(codes.InvalidArgument, "reference request required")
	}
	if len(s.revs[string(r.ReferredKey)]) == 0 {
		return nil, status.Error(codes.NotFound, "referred key not found")
	}
	hdr := s.ledger.Add(&ledger.Reference{Key: r.Key, ReferredKey: r.ReferredKey, AtTx: r.AtTx})
	s.refs[string(r.Key)] = binding{target: r.ReferredKey, atTx: r.AtTx, tx: hdr.ID}
	return s.verifiableWrite(hdr, req.ProveSinceTx)
}

func (s *Server) verifiableZAdd(req *schema.VerifiableZAddRequest) (*schema.VerifiableTx, error) {
	z := req.ZAddRequest
	if z == nil || len(z.Set) == 0 || len(z.Key) == 0 {
		return nil, status.Error(codes.InvalidArgument, "zadd request required")
	}
	if len(s.revs[string(z.Key)]) == 0 {
		return nil, status.Error(codes.NotFound, "member key not found")
	}
	hdr := s.ledger.Add(&ledger.ZEntry{Set: z.Set, Key: z.Key, Score: z.Score, AtTx: z.AtTx})
	return s.verifiableWrite(hdr, req.ProveSinceTx)
}

func (s *Server) verifiableTxByID(req *schema.VerifiableTxRequest) (*schema.VerifiableTx, error) {
	if req.Tx == 0 || req.Tx > s.ledger.Size() {
		return nil, status.Error(codes.NotFound, "tx not found")
	}
	dual, hi, err := s.dualProofSince(req.ProveSinceTx, req.Tx)
	if err != nil {
		return nil, err
	}
	return &schema.VerifiableTx{
		Tx:        s.wireTx(req.Tx),
		DualProof: dual,
		Signature: s.signState(hi, s.ledger.Alh(hi)),
	}, nil
}

func (s *Server) verifiableWrite(hdr *ledger.TxHeader, since uint64) (*schema.VerifiableTx, error) {
	dual, hi, err := s.dualProofSince(since, hdr.ID)
	if err != nil {
		return nil, err
	}
	return &schema.VerifiableTx{
		Tx:        s.wireTx(hdr.ID),
		DualProof: dual,
		Signature: s.signState(hi, s.ledger.Alh(hi)),
	}, nil
}

// dualProofSince builds the dual proof between the caller's anchor and
// txID, sorted into source/target order, and reports the target tx the
// returned signature must cover.
func (s *Server) dualProofSince(since, txID uint64) (*schema.DualProof, uint64, error) {
	if since > s.ledger.Size() {
		return nil, 0, status.Error(codes.FailedPrecondition, "state not reached")
	}
	if since == 0 {
		since = 1
	}
	lo, hi := since, txID
	if lo > hi {
		lo, hi = hi, lo
	}
	return wireDualProof(s.ledger.DualProof(lo, hi)), hi, nil
}

// entryIndex locates an entry inside its transaction by digest.
func (s *Server) entryIndex(txID uint64, e ledger.Entry) int {
	want := e.Digest()
	for i, stored := range s.ledger.Entries(txID) {
		if stored.Digest() == want {
			return i
		}
	}
	return -1
}

func (s *Server) signState(txID uint64, alh ledger.Digest) *schema.Signature {
	if s.SignKey == nil {
		return nil
	}
	payload := make([]byte, 8+ledger.DigestSize)
	binary.BigEndian.PutUint64(payload, txID)
	copy(payload[8:], alh[:])
	digest := sha256.Sum256(payload)
	sig, err := ecdsa.SignASN1(rand.Reader, s.SignKey, digest[:])
	if err != nil {
		panic(err)
	}
	return &schema.Signature{Signature: sig}
}

// ── Wire encoding ────────────────────────────────────────────────────────

func (s *Server) wireTx(txID uint64) *schema.Tx {
	entries := s.ledger.Entries(txID)
	wire := make([]*schema.TxEntry, len(entries))
	for i, e := range entries {
		d := e.Digest()
		wire[i] = &schema.TxEntry{Key: entryKey(e), Digest: d[:]}
	}
	return &schema.Tx{Header: wireHeader(s.ledger.Header(txID)), Entries: wire}
}

func entryKey(e ledger.Entry) []byte {
	switch e := e.(type) {
	case *ledger.KV:
		return e.Key
	case *ledger.Reference:
		return e.Key
	case *ledger.ZEntry:
		return e.Key
	}
	return nil
}

func wireHeader(h *ledger.TxHeader) *schema.TxHeader {
	return &schema.TxHeader{
		ID:       h.ID,
		PrevAlh:  h.PrevAlh[:],
		Ts:       h.Ts,
		Nentries: h.NEntries,
		EH:       h.Eh[:],
		BlTxID:   h.BlTxID,
		BlRoot:   h.BlRoot[:],
	}
}

func wireInclusion(p *ledger.InclusionProof) *schema.InclusionProof {
	return &schema.InclusionProof{
		Leaf:  p.LeafIndex,
		Width: p.TreeSize,
		Terms: wireTerms(p.AuditPath),
	}
}

func wireDualProof(p *ledger.DualProof) *schema.DualProof {
	alh := p.TargetBlTxAlh
	return &schema.DualProof{
		SourceTxHeader:     wireHeader(p.SourceTxHeader),
		TargetTxHeader:     wireHeader(p.TargetTxHeader),
		InclusionProof:     wireTerms(p.InclusionProof),
		ConsistencyProof:   wireTerms(p.ConsistencyProof),
		TargetBlTxAlh:      alh[:],
		LastInclusionProof: wireTerms(p.LastInclusionProof),
		LinearProof: &schema.LinearProof{
			SourceTxID: p.LinearProof.SourceTxID,
			TargetTxID: p.LinearProof.TargetTxID,
			Terms:      wireTerms(p.LinearProof.Terms),
		},
	}
}

func wireTerms(terms []ledger.Digest) [][]byte {
	if len(terms) == 0 {
		return nil
	}
	out := make([][]byte, len(terms))
	for i, t := range terms {
		t := t
		out[i] = t[:]
	}
	return out
}
