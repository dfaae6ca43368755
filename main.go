// The main package for the interpelli executable.
package main

import "github.com/JakeFAU/interpelli-crawler/cmd"

func main() {
	cmd.Execute()
}
