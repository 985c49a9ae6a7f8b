// Submerge merges several proxy subscriptions into one mihomo config with a
// dedicated listener port per subscription.
//
// Usage:
//
//	# Write the merged config
//	submerge merge -m manifest.yaml -o config.yaml
//
//	# Validate without writing
//	submerge check -m manifest.yaml
//
//	# Re-merge whenever an input file changes
//	submerge watch -m manifest.yaml -o config.yaml
//
//	# Serve POST /api/merge
//	submerge serve --listen 127.0.0.1:25500
package main

func main() {
	Execute()
}
