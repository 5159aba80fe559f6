package main

import (
	"github.com/JakeFAU/scrape-queue/cmd"
)

func main() {
	cmd.Execute()
}
