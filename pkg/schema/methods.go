package schema

// Full method names of the LedgerService gRPC surface.
const (
	MethodLogin                  = "/veralog.v1.LedgerService/Login"
	MethodLogout                 = "/veralog.v1.LedgerService/Logout"
	MethodUseDatabase            = "/veralog.v1.LedgerService/UseDatabase"
	MethodCurrentState           = "/veralog.v1.LedgerService/CurrentState"
	MethodHealth                 = "/veralog.v1.LedgerService/Health"
	MethodGet                    = "/veralog.v1.LedgerService/Get"
	MethodSet                    = "/veralog.v1.LedgerService/Set"
	MethodHistory                = "/veralog.v1.LedgerService/History"
	MethodVerifiableGet          = "/veralog.v1.LedgerService/VerifiableGet"
	MethodVerifiableSet          = "/veralog.v1.LedgerService/VerifiableSet"
	MethodVerifiableSetReference = "/veralog.v1.LedgerService/VerifiableSetReference"
	MethodVerifiableZAdd         = "/veralog.v1.LedgerService/VerifiableZAdd"
	MethodVerifiableTxByID       = "/veralog.v1.LedgerService/VerifiableTxById"
)
