package main

import (
	// Register Plugins via side-effects
	_ "rayscan/internal/collectors/file"
	_ "rayscan/internal/collectors/http"
	_ "rayscan/internal/publishers/file"
	_ "rayscan/internal/publishers/github"
	_ "rayscan/internal/publishers/stdout"
)

func main() {
	Execute()
}
