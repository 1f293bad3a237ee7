package core

import "errors"

var (
	ErrSchemaIntegrity            = errors.New("schema integrity violated")
	ErrContractNotEstablished     = errors.New("training schema contract not established")
	ErrContractAlreadyEstablished = errors.New("training schema contract already established")
	ErrScalerAlreadyFitted        = errors.New("scaler already fitted")
)
