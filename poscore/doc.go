// Package poscore provides a client for the POS Media Data Core API.
//
// Features:
// - Built-in bearer token handling with caching and automatic refresh.
// - Strongly typed campaign, installation and document models.
// - Transparent fetch-all traversal of paginated campaign listings.
package poscore
