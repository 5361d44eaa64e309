//go:build !prod

package config

const developmentAllowed = true
