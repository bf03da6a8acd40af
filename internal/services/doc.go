// Package services provides the service registry the HTTP layer reads from.
//
// The registry exposes the run manager, the run archive, the conversation arc
// tracker and the secret scrubber. Use NewRegistry() with the wired services,
// then the accessor methods to retrieve individual services.
package services
