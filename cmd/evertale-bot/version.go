package main

// Version is the application version.
// Set at build time with -ldflags "-X main.Version=1.2.0".
var Version = "dev"
