// Package cli implements the qzcli command-line interface.
//
// # Commands
//
// init: Save credentials to ~/.qzcli/config.yaml and test them
//
//	qzcli init --username alice
//
// login: Log in through CAS and save the browser cookie
//
//	qzcli login --workspace ws-123
//
// cookie: Save a cookie copied from the browser, or show/clear the saved one
//
//	qzcli cookie --workspace ws-123 "session=...; qz_lang=zh"
//	qzcli cookie --file cookie.txt --no-test
//	qzcli cookie --show
//
// token, test, logout, status: Bearer token and cache management
//
//	qzcli token --refresh
//	qzcli status
//
// job: Bearer API job operations
//
//	qzcli job detail job-1 job-2
//	qzcli job stop --yes job-1
//	qzcli job create --file spec.json
//
// tasks: Running tasks of a workspace, through the cookie endpoint
//
//	qzcli tasks --project llm --all
//
// Global flags go before the command:
//
//	qzcli --debug login
package cli
