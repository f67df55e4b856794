// Package classifier turns raw failure text from tools and model providers
// into a closed taxonomy of agent errors. Classification is driven by an
// ordered rule table where the first matching pattern wins, and every
// category carries one static recovery suggestion.
package classifier
