// Package denylist holds the static set of ad and tracker hosts that decide
// default cookie blocking. The set is filled from the bundled host asset or
// an operator file, loaded in the background and joined before first use,
// and optionally reloaded when the file changes.
package denylist
