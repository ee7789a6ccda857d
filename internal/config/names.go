package config

import (
	"fmt"
	"strings"
)

// Names are the host-account object names derived from the app database. The
// installer creates every one of these, so all components must agree on the
// derivation.
type Names struct {
	Database        string // application database
	ComputePool     string // compute pool running the agent service
	Warehouse       string // warehouse the agent queries run on
	Service         string // container service name
	ServiceFunction string // app_public wrapper schema prefix
	HelperProcedure string // consumer-side helper procedure (fully qualified)
	TokenSecret     string // secret holding the orchestrator credentials
	Stage           string // internal stage backing result offload
	ConfigTable     string // dynamic configuration table
	CallbackSchema  string // schema exposing the completion callback functions
	ImageRepository string // image repository holding the agent container image
	EAIName         string // external access integration granting backend egress
}

// DeriveNames derives every host-account object name from the app database
// name. The database name is the single installer input.
func DeriveNames(database string) Names {
	lower := strings.ToLower(database)
	upper := strings.ToUpper(database)
	return Names{
		Database:        database,
		ComputePool:     lower + "_compute_pool",
		Warehouse:       lower + "_wh",
		Service:         lower + "_service",
		ServiceFunction: lower + ".app_public",
		HelperProcedure: fmt.Sprintf("%s_HELPER.%s.%s_EXECUTE_QUERY", upper, upper, upper),
		TokenSecret:     fmt.Sprintf("%s.core.%s_token", lower, lower),
		Stage:           lower + ".core.data_store",
		ConfigTable:     upper + ".CONFIG.APP_CONFIG",
		CallbackSchema:  lower + ".core",
		ImageRepository: lower + ".core.agent_repository",
		EAIName:         lower + "_access_integration",
	}
}
