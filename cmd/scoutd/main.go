package main

import "github.com/JakeFAU/gumgenie-scout/cmd"

func main() {
	cmd.ExecuteServe()
}
