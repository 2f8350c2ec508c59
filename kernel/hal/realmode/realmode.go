// Package realmode describes the register interface used to invoke 16-bit
// BIOS services from the 32-bit loader.
//
// The trampoline that drops to real mode, issues the software interrupt and
// returns to protected mode lives in the stage assembly. Go code only fills
// in a RegisterState and hands it to an Invoker.
package realmode

// FlagCarry is the carry bit of the EFLAGS register. BIOS services set it to
// signal failure.
const FlagCarry = 1 << 0

// RegisterState holds the general purpose and segment registers exchanged
// with a real mode interrupt handler. The field order matches the layout
// expected by the trampoline.
type RegisterState struct {
	Eax uint32
	Ecx uint32
	Edx uint32
	Ebx uint32
	Esp uint32
	Ebp uint32
	Esi uint32
	Edi uint32
	Efl uint32

	Es uint16
	Ds uint16
	Fs uint16
	Gs uint16
	Ss uint16
}

// Carry returns true if the carry flag is set.
func (r *RegisterState) Carry() bool {
	return r.Efl&FlagCarry != 0
}

// Invoker runs software interrupt vector in real mode with the supplied
// register state. The handler's output registers are written back to regs.
type Invoker func(vector uint8, regs *RegisterState)
