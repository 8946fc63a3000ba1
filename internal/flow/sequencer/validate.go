package sequencer

import "github.com/ahrav/go-reviewflow/internal/domain"

var validate = domain.Validator()
