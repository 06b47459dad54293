package database

import "strings"

// inClause returns "?, ?, ?" for n placeholders and the values as args.
func inClause(values []string) (string, []interface{}) {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", "), args
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
