// Command haikugate is the host gateway for WebAssembly-packaged request
// handlers: it loads a guest module and a TOML route table and serves HTTP
// traffic against the two.
package main

func main() {
	Execute()
}
