package keycloak

import "errors"

var errEmptyToken = errors.New("token endpoint returned no access_token")
