// Package module loads the application entry and tracks what was loaded.
//
// Cache records which source files went into which plugin artifact.
// Invalidate picks the records under the watch set that must be forgotten
// before a reload. PluginLoader rebuilds the entry when its record is gone,
// and Adapt turns the exported App symbol into a HandlerOnly or
// SelfListening Entry once per load.
package module
