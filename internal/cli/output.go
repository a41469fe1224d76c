package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
)

// printResult renders a result struct in the selected output format.
// Text output prints one "key: value" line per exported field, using
// the json tag as the key; json output pretty-prints the struct.
func printResult(w io.Writer, format string, result any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	default:
		v := reflect.ValueOf(result)
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			key := t.Field(i).Tag.Get("json")
			if key == "" {
				key = t.Field(i).Name
			}
			key = strings.Split(key, ",")[0]
			if _, err := fmt.Fprintf(w, "%s: %v\n", key, v.Field(i).Interface()); err != nil {
				return err
			}
		}
		return nil
	}
}
