// Parley is an output negotiation proxy for code-generating language models.
//
// Every generated artifact is validated against a rule set. Rejected
// artifacts are sent back to the generator together with the violations
// until one passes or the attempt budget is spent.
//
// Usage:
//
//	# Start the HTTP API with the default configuration
//	parley run
//
//	# Start with a configuration file
//	parley run --config /etc/parley/config.yaml
//
//	# Negotiate a single prompt from the command line
//	parley negotiate "Write a backup script for user data"
//
//	# Run the built-in demonstration
//	parley negotiate --demo
//
//	# Check an artifact against the rules
//	parley rules check --file script.sh
//
//	# Query stored negotiations
//	parley evidence query --status blocked
package main

func main() {
	Execute()
}
