package main

import (
	"flag"
	"log"

	"github.com/danmuck/divelink/internal/config"
)

func main() {
	kind := flag.String("kind", "device", "config kind: device|daemon")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing device profile")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		if *kind != "device" {
			log.Fatalf("validation supports kind=device only; run divelinkd to check %s config", *kind)
		}
		if _, err := config.LoadDeviceProfile(path); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}

func defaultPath(kind string) string {
	switch kind {
	case "device":
		return "cmd/divelinkd/device.toml"
	case "daemon":
		return "cmd/divelinkd/config.toml"
	default:
		log.Fatalf("unknown kind: %s", kind)
		return ""
	}
}
