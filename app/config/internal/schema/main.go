// Command schema writes JSON schema of the gqueue config file, used by go:generate
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	log "github.com/go-pkgz/lgr"
	"github.com/invopop/jsonschema"

	"github.com/umputun/gqueue/app/config"
)

const schemaVersion = "1.0.0"

func main() {
	dest := "schema.json"
	if len(os.Args) > 1 {
		dest = os.Args[1]
	}

	fh, err := os.Create(dest) //nolint:gosec // destination set by go:generate
	if err != nil {
		log.Fatalf("[ERROR] can't create %s, %v", dest, err)
	}
	if err = generate(fh); err != nil {
		_ = fh.Close()
		log.Fatalf("[ERROR] can't generate schema, %v", err)
	}
	if err = fh.Close(); err != nil {
		log.Fatalf("[ERROR] can't close %s, %v", dest, err)
	}
	log.Printf("[INFO] schema written to %s", dest)
}

// generate reflects config.Config and writes indented schema to w
func generate(w io.Writer) error {
	r := jsonschema.Reflector{}
	s := r.Reflect(&config.Config{})
	s.Title = "gqueue config"
	s.Description = "sqlite queue store settings, command line flags override them"
	s.Comments = "version " + schemaVersion // Version is the $schema keyword, keep the draft uri

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("can't encode schema: %w", err)
	}
	return nil
}
