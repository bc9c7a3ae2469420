// Package output renders jalsync-cli results as a table, JSON or YAML.
package output
