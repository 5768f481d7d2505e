// Package conv provides checked integer conversions used at package
// boundaries where sizes and counts cross signedness or width.
package conv
