// gatewayctl provisions and verifies AI provider routes on an APISIX-style
// gateway.
//
// Usage:
//
//	# Wait for dependencies, provision every enabled provider, diagnose
//	gatewayctl
//
//	# Remove the routes gatewayctl owns
//	gatewayctl --cleanup
//
//	# Also remove the consumer, the identity realm and cached credentials
//	gatewayctl --deepcleanup
//
//	# Diagnose provisioned routes without changing anything
//	gatewayctl diagnose
//
//	# Print the routes that would be provisioned
//	gatewayctl render
package main

import "os"

func main() {
	os.Exit(Execute(os.Args[1:]))
}
