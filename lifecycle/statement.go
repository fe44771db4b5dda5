package lifecycle

import (
	"regexp"
	"strings"
)

const (
	// UnknownCollection names the collection of statements whose target
	// table cannot be determined, e.g. "SELECT 1".
	UnknownCollection = "unknown"

	// OtherVerb is reported for statements that are not one of the
	// recognised data manipulation verbs.
	OtherVerb = "other"
)

// Regex patterns for statement classification and sanitization.
var (
	// leadingCommentsRegex matches comments before the first keyword.
	// Example matches: "/* app:api */ ", "-- trace\n"
	leadingCommentsRegex = regexp.MustCompile(`(?s)^\s*(?:(?:/\*.*?\*/|(?:--|#)[^\n]*(?:\n|$))\s*)*`)

	// fromRegex finds the first FROM target of SELECT and DELETE.
	fromRegex = regexp.MustCompile(`(?is)\bfrom\s+([^\s,;()]+)`)

	// insertRegex finds the INTO target of INSERT.
	insertRegex = regexp.MustCompile(
		`(?is)^insert\s+(?:(?:low_priority|delayed|high_priority|ignore)\s+)*(?:into\s+)?([^\s(,;]+)`,
	)

	// updateRegex finds the target of UPDATE.
	updateRegex = regexp.MustCompile(`(?is)^update\s+(?:(?:low_priority|ignore)\s+)*([^\s,;]+)`)

	// stringLiteralRegex matches single-quoted strings, handling escaped quotes.
	// Example matches: 'hello', 'it\'s', 'foo''bar'
	stringLiteralRegex = regexp.MustCompile(`'(?:[^'\\]|\\.)*'`)

	// numericLiteralRegex matches numeric literals (integers and floats).
	// Example matches: 123, 45.67, 0.5
	numericLiteralRegex = regexp.MustCompile(`\b\d+\.?\d*\b`)

	// hexLiteralRegex matches hex literals.
	// Example matches: 0xDEADBEEF, 0xFF, 0x1a2b
	hexLiteralRegex = regexp.MustCompile(`0[xX][0-9a-fA-F]+`)
)

// Statement is the classification of a SQL string used to name spans.
type Statement struct {
	// Verb is one of select, insert, update, delete or other.
	Verb string

	// Collection is the target table, schema-qualified when the statement
	// qualifies it, or UnknownCollection.
	Collection string
}

// ParseStatement classifies a SQL string.
//
// This is a pattern match on the leading keyword and the first target, not
// a SQL parser.
//
// Example:
//
//	ParseStatement("SELECT * FROM agent_integration.test WHERE id = ?")
//	// Statement{Verb: "select", Collection: "agent_integration.test"}
//
//	ParseStatement("SELECT 1")
//	// Statement{Verb: "select", Collection: "unknown"}
func ParseStatement(query string) Statement {
	query = leadingCommentsRegex.ReplaceAllString(query, "")

	st := Statement{Verb: OtherVerb, Collection: UnknownCollection}

	var target *regexp.Regexp
	switch verb := strings.ToLower(extractOperation(query)); verb {
	case "select", "delete":
		st.Verb = verb
		target = fromRegex
	case "insert":
		st.Verb = verb
		target = insertRegex
	case "update":
		st.Verb = verb
		target = updateRegex
	default:
		return st
	}

	if m := target.FindStringSubmatch(query); m != nil {
		if c := cleanIdentifier(m[1]); c != "" {
			st.Collection = c
		}
	}
	return st
}

func cleanIdentifier(id string) string {
	return strings.NewReplacer("`", "", `"`, "", "[", "", "]", "").Replace(id)
}

// extractOperation extracts the SQL operation (first word) from a query.
// Returns uppercase operation name or empty string if query is empty.
// This is used for the db.operation span attribute.
//
// Example:
//
//	extractOperation("SELECT * FROM users") // returns "SELECT"
//	extractOperation("insert into users")   // returns "INSERT"
//	extractOperation("")                    // returns ""
func extractOperation(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}

	// Find the first word (the SQL command)
	spaceIdx := strings.IndexAny(query, " \t\n\r(")
	if spaceIdx == -1 {
		return strings.ToUpper(query)
	}

	return strings.ToUpper(query[:spaceIdx])
}

// StatementName returns the span name of a statement executed on engine.
//
// Example:
//
//	StatementName("MySQL", Statement{Verb: "select", Collection: "unknown"})
//	// "Datastore/statement/MySQL/unknown/select"
func StatementName(engine string, st Statement) string {
	return "Datastore/statement/" + engine + "/" + st.Collection + "/" + st.Verb
}

// OperationName returns the span name of a non-statement action.
//
// Example:
//
//	OperationName("MySQL", "Pool#getConnection")
//	// "Datastore/operation/MySQL/Pool#getConnection"
func OperationName(engine, action string) string {
	return "Datastore/operation/" + engine + "/" + action
}

// DefaultQuerySanitizer is a basic query sanitizer that replaces
// literal values with placeholders to prevent sensitive data from
// appearing in traces.
//
// What it sanitizes:
//   - String literals: 'john' → '?'
//   - Numeric literals: 123, 45.67 → ?
//   - Hex literals: 0xDEADBEEF → ?
//
// Example:
//
//	DefaultQuerySanitizer("SELECT * FROM users WHERE id = 123")
//	// returns "SELECT * FROM users WHERE id = ?"
func DefaultQuerySanitizer(query string) string {
	query = stringLiteralRegex.ReplaceAllString(query, "'?'")
	query = hexLiteralRegex.ReplaceAllString(query, "?")
	query = numericLiteralRegex.ReplaceAllString(query, "?")
	return query
}
