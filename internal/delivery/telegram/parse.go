package telegram

import (
	"errors"
	"strconv"
	"strings"
)

var (
	errMissingOwner = errors.New("missing 'on <phone>' clause")
	errEmptyIDList  = errors.New("empty chat id list")
)

// commandArgs returns the whitespace-separated arguments after the command
// itself
func commandArgs(text string) []string {
	fields := strings.Fields(text)
	if len(fields) <= 1 {
		return nil
	}
	return fields[1:]
}

// splitOwner extracts the trailing "on <phone>" clause from command
// arguments. The clause is mandatory; every redirection rule belongs to one
// linked phone.
func splitOwner(args []string) (rest []string, phone string, err error) {
	for i, arg := range args {
		if strings.EqualFold(arg, "on") {
			if i+1 >= len(args) {
				return nil, "", errMissingOwner
			}
			return args[:i], args[i+1], nil
		}
	}
	return nil, "", errMissingOwner
}

// parseIDList parses a comma-separated list of chat identifiers
func parseIDList(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errEmptyIDList
	}
	return ids, nil
}
