// Package service exposes the gateway's operational surface over HTTP.
package service

import "github.com/google/wire"

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewAdminService, NewGatewayService)
