// Package model implements the attention-RNN command classifier.
//
// The network maps an MFCC tensor [T][Coeffs] to a probability distribution
// over the command classes:
//
//	MFCC [T][40]
//	  -> Conv(1->10, 5x1, same) -> BatchNorm -> ReLU
//	  -> Conv(10->1, 5x1, same) -> BatchNorm -> ReLU   (kernel runs along coefficients)
//	  -> BiLSTM(40->64) -> BiLSTM(128->64)             [T][128]
//	  -> attention pooled with query = Linear(last step)
//	  -> Linear(128->64) -> ReLU -> Linear(64->32) -> ReLU -> Linear(32->16)
//	  -> Softmax
//
// # Weights
//
// Parameters are loaded from a msgpack artifact holding tensors keyed by
// their PyTorch state_dict names (for example "rnn1.weight_ih_l0_reverse" or
// "classifier.4.bias"), so an exported state_dict maps one-to-one:
//
//	{"format": "voicecmd-weights", "version": 1,
//	 "tensors": {"cnn.0.weight": {"shape": [10,1,5,1], "data": [...]}, ...}}
//
// Batch norm layers use their running statistics (inference mode). Unknown
// tensors such as "num_batches_tracked" are ignored.
//
// A Classifier is read-only after New and safe for concurrent use.
package model
