// Package models - Network registry and class labels.
package models
