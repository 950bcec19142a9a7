// Package generation defines the boundary between the task core and external
// language model services.
package generation
