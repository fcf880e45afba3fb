package main

import "github.com/CosmoTheDev/deltascan/cmd"

func main() {
	cmd.Execute()
}
