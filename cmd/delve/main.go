// Command delve researches a topic on the web with a supervisor and a pool
// of researchers, then writes a cited markdown report.
package main

func main() {
	Execute()
}
