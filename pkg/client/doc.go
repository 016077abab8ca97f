// Package client is the VeraLog Go SDK.
//
// It connects to a VeraLog server and wraps every read and write in local
// cryptographic verification: entry digests are recomputed from raw data,
// Merkle inclusion ties entries to their transaction, and a dual proof ties
// the transaction to the client's trust anchor — the highest transaction this
// client has ever verified. A server that rewrites, forks, or truncates
// history cannot produce the proofs, and the operation fails with
// ledger.ErrTamperDetected.
//
// # Connecting
//
//	c, err := client.NewFromURI("veralog://ledger.example.com:3322/defaultdb")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	err = c.Login(ctx, "user", "password")
//
// # Verified writes and reads
//
//	hdr, err := c.VerifiedSet(ctx, []byte("invoice:2024:001"), payload)
//	// hdr.ID is the committed transaction; the local anchor now covers it.
//
//	entry, err := c.VerifiedGet(ctx, []byte("invoice:2024:001"))
//	// entry.Verified is true only after every proof checked out.
//
// Failed verification is final: the client never retries a tampered
// response, and the trust anchor is left untouched.
//
// # Trust anchors
//
// By default anchors live in process memory. Give the client a persistent
// store so trust survives restarts:
//
//	anchors, err := state.OpenLevelDB(dir)
//	c, err := client.NewFromURI(uri, client.WithStateService(anchors))
//
// With a shared store (state.NewPostgres) any number of processes hold one
// anchor per server and database; monotonicity is enforced by the store.
//
// # State signatures
//
// When the server is started with a signing key, configure its public key
// and every state transition must carry a valid signature before it is
// trusted:
//
//	c, err := client.NewFromURI(uri, client.WithServerSigningKey(pemBytes))
//
// # Auditing
//
// VerifiedTxByID verifies a transaction the client did not write, which is
// what an independent auditor runs against the server head:
//
//	st, _ := c.CurrentState(ctx)      // server claim, unverified
//	_, err := c.VerifiedTxByID(ctx, st.TxID)
//	// err == nil: the claimed head is consistent with our anchor.
package client
