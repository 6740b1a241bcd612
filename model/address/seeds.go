package address

import "encoding/binary"

// QueueName is the name-registry entry resolving (namespace, name) to a queue.
func QueueName(namespace, name string) Address {
	return Derive(SeedQueueName, []byte(namespace), []byte(name))
}

// Queue is the address of the queue record itself.
func Queue(namespace, name string) Address {
	return Derive(SeedQueue, []byte(namespace), []byte(name))
}

// QueueAuthority is the registration record of authority on queue.
func QueueAuthority(queue, authority Address) Address {
	return Derive(SeedQueueAuthority, queue[:], authority[:])
}

// Task is the address of the task record at slot of queue. The slot is
// encoded as a 2-byte little-endian integer.
func Task(queue Address, slot uint16) Address {
	var raw [2]byte
	binary.LittleEndian.PutUint16(raw[:], slot)
	return Derive(SeedTask, queue[:], raw[:])
}

// User is the delegatable account owned by owner.
func User(owner Address) Address {
	return Derive(SeedUser, owner[:])
}

// Program is the well-known address of a named program.
func Program(name string) Address {
	return Derive(SeedProgram, []byte(name))
}

// Principal maps a human readable principal name (wallet label, validator
// name) to an address.
func Principal(name string) Address {
	return Derive(SeedPrincipal, []byte(name))
}
