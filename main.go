package main

import (
	"flag"
	"log"

	"kestrel-qms/core/appbootstrap"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the yaml config file")
	flag.Parse()
	if err := appbootstrap.Run(*configPath); err != nil {
		log.Fatal(err)
	}
}
