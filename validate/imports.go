package validate

// HostModule is the module name under which all host functions are imported.
const HostModule = "env"

// SupportedImports is the full set of host functions the VM provides,
// keyed by module-qualified name. The instance package must register
// exactly this set.
var SupportedImports = map[string]struct{}{
	"env.db_read":                  {},
	"env.db_write":                 {},
	"env.db_remove":                {},
	"env.db_scan":                  {},
	"env.db_next":                  {},
	"env.addr_validate":            {},
	"env.addr_canonicalize":        {},
	"env.addr_humanize":            {},
	"env.secp256k1_verify":         {},
	"env.secp256k1_recover_pubkey": {},
	"env.ed25519_verify":           {},
	"env.ed25519_batch_verify":     {},
	"env.debug":                    {},
	"env.abort":                    {},
	"env.query_chain":              {},
}
