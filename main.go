// Command archhive captures, diffs, serves, and reconciles machine
// configuration snapshots.
package main

import "archhive/cmd"

func main() {
	cmd.Execute()
}
