// See checker.go for the package overview.
package healthcheck
