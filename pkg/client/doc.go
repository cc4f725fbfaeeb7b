// Package client implements api.Client over the Validio REST API.
//
// Every call is authenticated with a bearer API key. Non-2xx responses are
// returned as *api.HTTPError so that the engine can classify them:
//
//	c := client.New("https://app.validio.io", os.Getenv("VALIDIO_API_KEY"), version)
//	sources, err := c.ListSources(ctx, "analytics")
package client
