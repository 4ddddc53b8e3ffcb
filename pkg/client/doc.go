// Package client talks to the custom-domain verification service.
//
// # Registering a domain
//
//	c, err := client.New("http://localhost:8080")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	reg, err := c.AddDomain(ctx, client.AddRequest{Domain: "example.com", Primary: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("publish %s %s %q\n", reg.Instructions.RecordType, reg.Instructions.Host, reg.Value)
//
// The service keeps checking in the background. To check on demand:
//
//	res, err := c.CheckDomain(ctx, "example.com")
//	if err == nil && !res.Verified {
//	    fmt.Println(strings.Join(res.Instructions.Steps, "\n"))
//	}
//
// # Errors
//
// Non-2xx responses are returned as *APIError, which matches the package
// sentinels:
//
//	if errors.Is(err, client.ErrNotFound) { ... }
package client
