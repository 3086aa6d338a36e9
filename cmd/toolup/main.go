package main

// Version will be set at build time via -ldflags
var Version = "dev"

func main() {
	Execute()
}
