// Package watch turns filesystem events under the watch set into reload
// triggers.
//
// Every resolved watch path is watched recursively; directories created
// later are added as they appear, excluded directories never are. An event
// is dropped when its path is under a resolved exclude path or matches
// **/<name> or **/<name>/** for an exclude entry, so node_modules is
// ignored at any depth. Each write, create, remove or rename under the
// remaining paths fires one trigger carrying the path. Setting a debounce
// collapses a burst into one trigger for its last path.
package watch
