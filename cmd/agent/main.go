// Command agent is the remote-execution agent's process entrypoint.
package main

func main() {
	Execute()
}
