// Command ralph runs the autonomous agent orchestrator event loop.
package main

func main() {
	Execute()
}
