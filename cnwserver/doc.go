// Package cnwserver implements the license-state decision and package delivery
// logic of the CNW License Server.
//
// Install with:
//
//	go get github.com/CloudNativeWorks/cnw-license-server/cnwserver
//
// A Validator takes the dispatcher's response data, the stored license
// metadata and the request parameters, and returns the shaped response:
//
//   - 400 when the license could not be resolved
//   - 401 when the stored metadata carries no status
//   - cron checks are answered by the ResponseBuilder
//   - update checks get product metadata and, when active and not expired,
//     a package download URL
//
// # Quick Start
//
//	resolver := cnwserver.NewPackageResolver(
//	    cnwserver.WithRemoteStorage(true),
//	    cnwserver.WithStorageSigner(signer),
//	)
//	v := cnwserver.NewValidator(
//	    cnwserver.WithMetadataStore(store),
//	    cnwserver.WithProductCatalog(catalog),
//	    cnwserver.WithPackageResolver(resolver),
//	)
//	resp := v.Validate(ctx, data, "license", meta, cnwserver.Parameters{"flag": "update_plugins"}, license)
//
// # Client
//
// Plugins and themes call the server with a Client:
//
//	client := cnwserver.NewClient("https://license.example.com", "your-api-key")
//	resp, err := client.CheckUpdate(ctx, "CNW-XXXX-YYYY-ZZZZ", cnwserver.FlagUpdatePlugins)
package cnwserver
