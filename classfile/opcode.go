package classfile

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is a single JVM instruction opcode.
type Opcode byte

// Constants
const (
	NOP         Opcode = 0x00
	ACONST_NULL Opcode = 0x01
	ICONST_M1   Opcode = 0x02
	ICONST_0    Opcode = 0x03
	ICONST_1    Opcode = 0x04
	ICONST_2    Opcode = 0x05
	ICONST_3    Opcode = 0x06
	ICONST_4    Opcode = 0x07
	ICONST_5    Opcode = 0x08
	LCONST_0    Opcode = 0x09
	LCONST_1    Opcode = 0x0a
	FCONST_0    Opcode = 0x0b
	FCONST_1    Opcode = 0x0c
	FCONST_2    Opcode = 0x0d
	DCONST_0    Opcode = 0x0e
	DCONST_1    Opcode = 0x0f
	BIPUSH      Opcode = 0x10
	SIPUSH      Opcode = 0x11
	LDC         Opcode = 0x12
	LDC_W       Opcode = 0x13
	LDC2_W      Opcode = 0x14
)

// Loads
const (
	ILOAD   Opcode = 0x15
	LLOAD   Opcode = 0x16
	FLOAD   Opcode = 0x17
	DLOAD   Opcode = 0x18
	ALOAD   Opcode = 0x19
	ILOAD_0 Opcode = 0x1a // 0x1a-0x1d
	LLOAD_0 Opcode = 0x1e // 0x1e-0x21
	FLOAD_0 Opcode = 0x22 // 0x22-0x25
	DLOAD_0 Opcode = 0x26 // 0x26-0x29
	ALOAD_0 Opcode = 0x2a // 0x2a-0x2d
	IALOAD  Opcode = 0x2e
	LALOAD  Opcode = 0x2f
	FALOAD  Opcode = 0x30
	DALOAD  Opcode = 0x31
	AALOAD  Opcode = 0x32
	BALOAD  Opcode = 0x33
	CALOAD  Opcode = 0x34
	SALOAD  Opcode = 0x35
)

// Stores
const (
	ISTORE   Opcode = 0x36
	LSTORE   Opcode = 0x37
	FSTORE   Opcode = 0x38
	DSTORE   Opcode = 0x39
	ASTORE   Opcode = 0x3a
	ISTORE_0 Opcode = 0x3b // 0x3b-0x3e
	LSTORE_0 Opcode = 0x3f // 0x3f-0x42
	FSTORE_0 Opcode = 0x43 // 0x43-0x46
	DSTORE_0 Opcode = 0x47 // 0x47-0x4a
	ASTORE_0 Opcode = 0x4b // 0x4b-0x4e
	IASTORE  Opcode = 0x4f
	LASTORE  Opcode = 0x50
	FASTORE  Opcode = 0x51
	DASTORE  Opcode = 0x52
	AASTORE  Opcode = 0x53
	BASTORE  Opcode = 0x54
	CASTORE  Opcode = 0x55
	SASTORE  Opcode = 0x56
)

// Stack
const (
	POP     Opcode = 0x57
	POP2    Opcode = 0x58
	DUP     Opcode = 0x59
	DUP_X1  Opcode = 0x5a
	DUP_X2  Opcode = 0x5b
	DUP2    Opcode = 0x5c
	DUP2_X1 Opcode = 0x5d
	DUP2_X2 Opcode = 0x5e
	SWAP    Opcode = 0x5f
)

// Math
const (
	IADD  Opcode = 0x60
	LADD  Opcode = 0x61
	FADD  Opcode = 0x62
	DADD  Opcode = 0x63
	ISUB  Opcode = 0x64
	LSUB  Opcode = 0x65
	FSUB  Opcode = 0x66
	DSUB  Opcode = 0x67
	IMUL  Opcode = 0x68
	LMUL  Opcode = 0x69
	FMUL  Opcode = 0x6a
	DMUL  Opcode = 0x6b
	IDIV  Opcode = 0x6c
	LDIV  Opcode = 0x6d
	FDIV  Opcode = 0x6e
	DDIV  Opcode = 0x6f
	IREM  Opcode = 0x70
	LREM  Opcode = 0x71
	FREM  Opcode = 0x72
	DREM  Opcode = 0x73
	INEG  Opcode = 0x74
	LNEG  Opcode = 0x75
	FNEG  Opcode = 0x76
	DNEG  Opcode = 0x77
	ISHL  Opcode = 0x78
	LSHL  Opcode = 0x79
	ISHR  Opcode = 0x7a
	LSHR  Opcode = 0x7b
	IUSHR Opcode = 0x7c
	LUSHR Opcode = 0x7d
	IAND  Opcode = 0x7e
	LAND  Opcode = 0x7f
	IOR   Opcode = 0x80
	LOR   Opcode = 0x81
	IXOR  Opcode = 0x82
	LXOR  Opcode = 0x83
	IINC  Opcode = 0x84
)

// Conversions
const (
	I2L Opcode = 0x85
	I2F Opcode = 0x86
	I2D Opcode = 0x87
	L2I Opcode = 0x88
	L2F Opcode = 0x89
	L2D Opcode = 0x8a
	F2I Opcode = 0x8b
	F2L Opcode = 0x8c
	F2D Opcode = 0x8d
	D2I Opcode = 0x8e
	D2L Opcode = 0x8f
	D2F Opcode = 0x90
	I2B Opcode = 0x91
	I2C Opcode = 0x92
	I2S Opcode = 0x93
)

// Comparisons
const (
	LCMP      Opcode = 0x94
	FCMPL     Opcode = 0x95
	FCMPG     Opcode = 0x96
	DCMPL     Opcode = 0x97
	DCMPG     Opcode = 0x98
	IFEQ      Opcode = 0x99
	IFNE      Opcode = 0x9a
	IFLT      Opcode = 0x9b
	IFGE      Opcode = 0x9c
	IFGT      Opcode = 0x9d
	IFLE      Opcode = 0x9e
	IF_ICMPEQ Opcode = 0x9f
	IF_ICMPNE Opcode = 0xa0
	IF_ICMPLT Opcode = 0xa1
	IF_ICMPGE Opcode = 0xa2
	IF_ICMPGT Opcode = 0xa3
	IF_ICMPLE Opcode = 0xa4
	IF_ACMPEQ Opcode = 0xa5
	IF_ACMPNE Opcode = 0xa6
)

// Control
const (
	GOTO         Opcode = 0xa7
	JSR          Opcode = 0xa8
	RET          Opcode = 0xa9
	TABLESWITCH  Opcode = 0xaa
	LOOKUPSWITCH Opcode = 0xab
	IRETURN      Opcode = 0xac
	LRETURN      Opcode = 0xad
	FRETURN      Opcode = 0xae
	DRETURN      Opcode = 0xaf
	ARETURN      Opcode = 0xb0
	RETURN       Opcode = 0xb1
)

// References
const (
	GETSTATIC       Opcode = 0xb2
	PUTSTATIC       Opcode = 0xb3
	GETFIELD        Opcode = 0xb4
	PUTFIELD        Opcode = 0xb5
	INVOKEVIRTUAL   Opcode = 0xb6
	INVOKESPECIAL   Opcode = 0xb7
	INVOKESTATIC    Opcode = 0xb8
	INVOKEINTERFACE Opcode = 0xb9
	INVOKEDYNAMIC   Opcode = 0xba
	NEW             Opcode = 0xbb
	NEWARRAY        Opcode = 0xbc
	ANEWARRAY       Opcode = 0xbd
	ARRAYLENGTH     Opcode = 0xbe
	ATHROW          Opcode = 0xbf
	CHECKCAST       Opcode = 0xc0
	INSTANCEOF      Opcode = 0xc1
	MONITORENTER    Opcode = 0xc2
	MONITOREXIT     Opcode = 0xc3
)

// Extended
const (
	WIDE           Opcode = 0xc4
	MULTIANEWARRAY Opcode = 0xc5
	IFNULL         Opcode = 0xc6
	IFNONNULL      Opcode = 0xc7
	GOTO_W         Opcode = 0xc8
	JSR_W          Opcode = 0xc9
)

// NEWARRAY element type codes.
const (
	T_BOOLEAN = 4
	T_CHAR    = 5
	T_FLOAT   = 6
	T_DOUBLE  = 7
	T_BYTE    = 8
	T_SHORT   = 9
	T_INT     = 10
	T_LONG    = 11
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string // mnemonic
	OperandBytes int    // fixed operand bytes; -1 for switches and wide
}

var opcodeTable [256]OpcodeInfo

func def(op Opcode, name string, operands int) {
	opcodeTable[op] = OpcodeInfo{Name: name, OperandBytes: operands}
}

func init() {
	names0 := map[Opcode]string{
		NOP: "nop", ACONST_NULL: "aconst_null", ICONST_M1: "iconst_m1",
		ICONST_0: "iconst_0", ICONST_1: "iconst_1", ICONST_2: "iconst_2", ICONST_3: "iconst_3",
		ICONST_4: "iconst_4", ICONST_5: "iconst_5", LCONST_0: "lconst_0", LCONST_1: "lconst_1",
		FCONST_0: "fconst_0", FCONST_1: "fconst_1", FCONST_2: "fconst_2",
		DCONST_0: "dconst_0", DCONST_1: "dconst_1",
		IALOAD: "iaload", LALOAD: "laload", FALOAD: "faload", DALOAD: "daload",
		AALOAD: "aaload", BALOAD: "baload", CALOAD: "caload", SALOAD: "saload",
		IASTORE: "iastore", LASTORE: "lastore", FASTORE: "fastore", DASTORE: "dastore",
		AASTORE: "aastore", BASTORE: "bastore", CASTORE: "castore", SASTORE: "sastore",
		POP: "pop", POP2: "pop2", DUP: "dup", DUP_X1: "dup_x1", DUP_X2: "dup_x2",
		DUP2: "dup2", DUP2_X1: "dup2_x1", DUP2_X2: "dup2_x2", SWAP: "swap",
		IADD: "iadd", LADD: "ladd", FADD: "fadd", DADD: "dadd",
		ISUB: "isub", LSUB: "lsub", FSUB: "fsub", DSUB: "dsub",
		IMUL: "imul", LMUL: "lmul", FMUL: "fmul", DMUL: "dmul",
		IDIV: "idiv", LDIV: "ldiv", FDIV: "fdiv", DDIV: "ddiv",
		IREM: "irem", LREM: "lrem", FREM: "frem", DREM: "drem",
		INEG: "ineg", LNEG: "lneg", FNEG: "fneg", DNEG: "dneg",
		ISHL: "ishl", LSHL: "lshl", ISHR: "ishr", LSHR: "lshr", IUSHR: "iushr", LUSHR: "lushr",
		IAND: "iand", LAND: "land", IOR: "ior", LOR: "lor", IXOR: "ixor", LXOR: "lxor",
		I2L: "i2l", I2F: "i2f", I2D: "i2d", L2I: "l2i", L2F: "l2f", L2D: "l2d",
		F2I: "f2i", F2L: "f2l", F2D: "f2d", D2I: "d2i", D2L: "d2l", D2F: "d2f",
		I2B: "i2b", I2C: "i2c", I2S: "i2s",
		LCMP: "lcmp", FCMPL: "fcmpl", FCMPG: "fcmpg", DCMPL: "dcmpl", DCMPG: "dcmpg",
		IRETURN: "ireturn", LRETURN: "lreturn", FRETURN: "freturn", DRETURN: "dreturn",
		ARETURN: "areturn", RETURN: "return",
		ARRAYLENGTH: "arraylength", ATHROW: "athrow",
		MONITORENTER: "monitorenter", MONITOREXIT: "monitorexit",
	}
	for op, name := range names0 {
		def(op, name, 0)
	}
	loads := []string{"iload", "lload", "fload", "dload", "aload"}
	stores := []string{"istore", "lstore", "fstore", "dstore", "astore"}
	for i := 0; i < 5; i++ {
		def(ILOAD+Opcode(i), loads[i], 1)
		def(ISTORE+Opcode(i), stores[i], 1)
		for n := 0; n < 4; n++ {
			def(ILOAD_0+Opcode(i*4+n), fmt.Sprintf("%s_%d", loads[i], n), 0)
			def(ISTORE_0+Opcode(i*4+n), fmt.Sprintf("%s_%d", stores[i], n), 0)
		}
	}
	def(BIPUSH, "bipush", 1)
	def(SIPUSH, "sipush", 2)
	def(LDC, "ldc", 1)
	def(LDC_W, "ldc_w", 2)
	def(LDC2_W, "ldc2_w", 2)
	def(IINC, "iinc", 2)
	branches := map[Opcode]string{
		IFEQ: "ifeq", IFNE: "ifne", IFLT: "iflt", IFGE: "ifge", IFGT: "ifgt", IFLE: "ifle",
		IF_ICMPEQ: "if_icmpeq", IF_ICMPNE: "if_icmpne", IF_ICMPLT: "if_icmplt",
		IF_ICMPGE: "if_icmpge", IF_ICMPGT: "if_icmpgt", IF_ICMPLE: "if_icmple",
		IF_ACMPEQ: "if_acmpeq", IF_ACMPNE: "if_acmpne", GOTO: "goto", JSR: "jsr",
		IFNULL: "ifnull", IFNONNULL: "ifnonnull",
	}
	for op, name := range branches {
		def(op, name, 2)
	}
	def(RET, "ret", 1)
	def(TABLESWITCH, "tableswitch", -1)
	def(LOOKUPSWITCH, "lookupswitch", -1)
	def(GETSTATIC, "getstatic", 2)
	def(PUTSTATIC, "putstatic", 2)
	def(GETFIELD, "getfield", 2)
	def(PUTFIELD, "putfield", 2)
	def(INVOKEVIRTUAL, "invokevirtual", 2)
	def(INVOKESPECIAL, "invokespecial", 2)
	def(INVOKESTATIC, "invokestatic", 2)
	def(INVOKEINTERFACE, "invokeinterface", 4)
	def(INVOKEDYNAMIC, "invokedynamic", 4)
	def(NEW, "new", 2)
	def(NEWARRAY, "newarray", 1)
	def(ANEWARRAY, "anewarray", 2)
	def(CHECKCAST, "checkcast", 2)
	def(INSTANCEOF, "instanceof", 2)
	def(WIDE, "wide", -1)
	def(MULTIANEWARRAY, "multianewarray", 3)
	def(GOTO_W, "goto_w", 4)
	def(JSR_W, "jsr_w", 4)
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	info := opcodeTable[op]
	if info.Name == "" {
		return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
	}
	return info
}

// Name returns the mnemonic.
func (op Opcode) Name() string {
	return op.Info().Name
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	return opcodeTable[op].Name != ""
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// IsBranch reports whether op takes a 16-bit branch offset.
func (op Opcode) IsBranch() bool {
	return (op >= IFEQ && op <= JSR) || op == IFNULL || op == IFNONNULL
}

// IsUnconditional reports whether control never falls through op.
func (op Opcode) IsUnconditional() bool {
	switch op {
	case GOTO, GOTO_W, TABLESWITCH, LOOKUPSWITCH, ATHROW, RET,
		IRETURN, LRETURN, FRETURN, DRETURN, ARETURN, RETURN:
		return true
	}
	return false
}

// Invert returns the conditional branch testing the opposite outcome.
func (op Opcode) Invert() Opcode {
	switch {
	case op >= IFEQ && op <= IF_ACMPNE:
		// Opcodes come in (cond, !cond) pairs starting at IFEQ.
		if (op-IFEQ)%2 == 0 {
			return op + 1
		}
		return op - 1
	case op == IFNULL:
		return IFNONNULL
	case op == IFNONNULL:
		return IFNULL
	}
	return op
}
