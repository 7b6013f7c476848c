// Command mbss-test is the UI test orchestrator: a daemon that discovers
// deployed browser-test bundles, queues and executes runs against target
// environments, records per-test artifacts, and serves the dashboard API.
package main

func main() {
	if err := newRootCmd().Execute(); err != nil {
		exitOnError(err)
	}
}
