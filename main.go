package main

import "github.com/xeloxa/WP-Hunter/cmd"

func main() {
	cmd.Execute()
}
