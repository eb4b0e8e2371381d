// The main package for the wrapped executable.
package main

import "github.com/JakeFAU/watch-wrapped/cmd"

func main() {
	cmd.Execute()
}
