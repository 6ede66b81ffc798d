// cmd/tools/registry-updater/main.go
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"time"

	"crm-lead-workers/pkg/registry"
)

const defaultPath = "configs/activity-registry.json"

func main() {
	if len(os.Args) < 2 {
		help(os.Stdout)
		os.Exit(1)
	}
	if err := run(os.Args[1], os.Args[2:], os.Stdout, time.Now()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(command string, args []string, out io.Writer, now time.Time) error {
	switch command {
	case "generate":
		fs := flag.NewFlagSet("generate", flag.ContinueOnError)
		path := fs.String("path", defaultPath, "Path to registry file")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return generate(*path, out, now)

	case "validate":
		fs := flag.NewFlagSet("validate", flag.ContinueOnError)
		path := fs.String("path", defaultPath, "Path to registry file")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return validate(*path, out)

	case "update":
		fs := flag.NewFlagSet("update", flag.ContinueOnError)
		path := fs.String("path", defaultPath, "Path to registry file")
		id := fs.String("id", "", "Activity ID to update")
		field := fs.String("field", "", "Field to update (version, displayName, description, timeout, retries)")
		value := fs.String("value", "", "New value for the field")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *id == "" || *field == "" || *value == "" {
			return fmt.Errorf("id, field, and value are required for update")
		}
		if err := update(*path, *id, *field, *value, now); err != nil {
			return err
		}
		fmt.Fprintf(out, "Updated activity %s, field %s to %s\n", *id, *field, *value)
		return nil

	default:
		help(out)
		return nil
	}
}

// generate refreshes every catalogued activity and keeps hand-added ones.
func generate(path string, out io.Writer, now time.Time) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to load registry: %w", err)
		}
		reg = &registry.ActivityRegistry{Version: "1.0.0"}
	}

	for _, a := range catalogue() {
		if existing, ok := reg.Find(a.ID); ok && existing.Version != "" {
			a.Version = existing.Version
		}
		reg.Upsert(a, now)
	}
	if err := reg.Validate(); err != nil {
		return err
	}
	if err := registry.SaveRegistry(reg, path); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %d activities to %s\n", len(reg.Activities), path)
	return nil
}

// validate checks the file and reports catalogued workers whose task type
// or input schema drifted from the code.
func validate(path string, out io.Writer) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	if err := reg.Validate(); err != nil {
		return err
	}

	for _, want := range catalogue() {
		got, ok := reg.Find(want.ID)
		if !ok {
			return fmt.Errorf("activity %s is missing; run generate", want.ID)
		}
		if got.TaskType != want.TaskType {
			return fmt.Errorf("activity %s has task type %s, worker uses %s", want.ID, got.TaskType, want.TaskType)
		}
		if !sameSchema(got.InputSchema, want.InputSchema) {
			return fmt.Errorf("activity %s input schema is out of date; run generate", want.ID)
		}
	}

	fmt.Fprintf(out, "Registry validation passed. Found %d activities.\n", len(reg.Activities))
	return nil
}

// sameSchema compares through a JSON round trip so that file-loaded and
// in-memory schemas use the same value types.
func sameSchema(a, b map[string]interface{}) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(m map[string]interface{}) interface{} {
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func update(path, id, field, value string, now time.Time) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	a, ok := reg.Find(id)
	if !ok {
		return fmt.Errorf("activity with ID %s not found", id)
	}

	switch field {
	case "version":
		a.Version = value
	case "displayName":
		a.DisplayName = value
	case "description":
		a.Description = value
	case "timeout":
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid timeout value: %w", err)
		}
		a.Timeout = value
	case "retries":
		retries, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid retries value: %w", err)
		}
		a.Retries = retries
	default:
		return fmt.Errorf("unknown field: %s", field)
	}

	reg.Upsert(*a, now)
	return registry.SaveRegistry(reg, path)
}

func help(out io.Writer) {
	fmt.Fprintln(out, `
Usage: registry-updater <command> [flags]

Commands:
  generate  Write the registry from the worker packages
  validate  Validate the registry file against the worker packages
  update    Update an existing activity's field
  help      Show this help message

Examples:
  registry-updater generate -path configs/activity-registry.json
  registry-updater update -id lead-assign -field timeout -value 20s
  registry-updater validate`)
}
