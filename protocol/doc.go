// Package protocol defines the vocabulary of the nv3p flashing protocol.
//
// # Commands
//
// Every command is a concrete type implementing Command. The command kind is
// the discriminant; argument and output fields live on the struct:
//
//	q := &protocol.QueryPartition{ID: 5}
//	if err := t.CommandSend(ctx, q); err != nil {
//	    return err
//	}
//	fmt.Println(q.Size, q.Address)
//
// # Status Replies
//
// Most commands are followed by a Status reply. A code other than StatusOk is
// surfaced as a *StatusError carrying the device message verbatim:
//
//	err := &protocol.StatusError{
//	    Operation: "create partition",
//	    Code:      protocol.StatusPartitionCreationFailed,
//	    Message:   "no space",
//	}
//	// err.Error() returns:
//	// "create partition failed: partition creation failed (status 6): no space"
//
// # Partition Table
//
// EncodeTable and DecodeTable convert the fixed-size records of the partition
// table stored on the device. WriteTableText produces the text dump format.
package protocol
