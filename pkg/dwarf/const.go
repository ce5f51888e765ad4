package dwarf

// Tag is a DIE tag (DWARF v5 table 7.3).
type Tag uint32

const (
	TagArrayType         Tag = 0x01
	TagLexicalBlock      Tag = 0x0b
	TagCompileUnit       Tag = 0x11
	TagInlinedSubroutine Tag = 0x1d
	TagSubprogram        Tag = 0x2e
	TagTryBlock          Tag = 0x32
	TagNamespace         Tag = 0x39
	TagPartialUnit       Tag = 0x3c
	TagSkeletonUnit      Tag = 0x4a
	TagGNUCallSite       Tag = 0x4109
	TagGNUCallSiteParam  Tag = 0x410a
)

// Attr is a DIE attribute name (DWARF v5 table 7.5).
type Attr uint32

const (
	AttrName            Attr = 0x03
	AttrStmtList        Attr = 0x10
	AttrLowPC           Attr = 0x11
	AttrHighPC          Attr = 0x12
	AttrLanguage        Attr = 0x13
	AttrCompDir         Attr = 0x1b
	AttrInline          Attr = 0x20
	AttrProducer        Attr = 0x25
	AttrAbstractOrigin  Attr = 0x31
	AttrDeclFile        Attr = 0x3a
	AttrDeclLine        Attr = 0x3b
	AttrDeclaration     Attr = 0x3c
	AttrExternal        Attr = 0x3f
	AttrSpecification   Attr = 0x47
	AttrRanges          Attr = 0x55
	AttrCallColumn      Attr = 0x57
	AttrCallFile        Attr = 0x58
	AttrCallLine        Attr = 0x59
	AttrLinkageName     Attr = 0x6e
	AttrStrOffsetsBase  Attr = 0x72
	AttrAddrBase        Attr = 0x73
	AttrRnglistsBase    Attr = 0x74
	AttrMIPSLinkageName Attr = 0x2007
)

// form is a DIE attribute encoding (DWARF v5 table 7.6).
type form uint32

const (
	formAddr          form = 0x01
	formBlock2        form = 0x03
	formBlock4        form = 0x04
	formData2         form = 0x05
	formData4         form = 0x06
	formData8         form = 0x07
	formString        form = 0x08
	formBlock         form = 0x09
	formBlock1        form = 0x0a
	formData1         form = 0x0b
	formFlag          form = 0x0c
	formSdata         form = 0x0d
	formStrp          form = 0x0e
	formUdata         form = 0x0f
	formRefAddr       form = 0x10
	formRef1          form = 0x11
	formRef2          form = 0x12
	formRef4          form = 0x13
	formRef8          form = 0x14
	formRefUdata      form = 0x15
	formIndirect      form = 0x16
	formSecOffset     form = 0x17
	formExprloc       form = 0x18
	formFlagPresent   form = 0x19
	formStrx          form = 0x1a
	formAddrx         form = 0x1b
	formRefSup4       form = 0x1c
	formStrpSup       form = 0x1d
	formData16        form = 0x1e
	formLineStrp      form = 0x1f
	formRefSig8       form = 0x20
	formImplicitConst form = 0x21
	formLoclistx      form = 0x22
	formRnglistx      form = 0x23
	formRefSup8       form = 0x24
	formStrx1         form = 0x25
	formStrx2         form = 0x26
	formStrx3         form = 0x27
	formStrx4         form = 0x28
	formAddrx1        form = 0x29
	formAddrx2        form = 0x2a
	formAddrx3        form = 0x2b
	formAddrx4        form = 0x2c
)

// Unit header types (DWARF v5 table 7.2).
const (
	utCompile      = 0x01
	utType         = 0x02
	utPartial      = 0x03
	utSkeleton     = 0x04
	utSplitCompile = 0x05
	utSplitType    = 0x06
)

// Standard line-number opcodes (DWARF v5 table 7.23).
const (
	lnsCopy             = 0x01
	lnsAdvancePC        = 0x02
	lnsAdvanceLine      = 0x03
	lnsSetFile          = 0x04
	lnsSetColumn        = 0x05
	lnsNegateStmt       = 0x06
	lnsSetBasicBlock    = 0x07
	lnsConstAddPC       = 0x08
	lnsFixedAdvancePC   = 0x09
	lnsSetPrologueEnd   = 0x0a
	lnsSetEpilogueBegin = 0x0b
	lnsSetISA           = 0x0c
)

// Extended line-number opcodes (DWARF v5 table 7.24).
const (
	lneEndSequence      = 0x01
	lneSetAddress       = 0x02
	lneDefineFile       = 0x03
	lneSetDiscriminator = 0x04
)

// Line-number header entry formats (DWARF v5 table 7.27).
const (
	lnctPath           = 0x01
	lnctDirectoryIndex = 0x02
	lnctTimestamp      = 0x03
	lnctSize           = 0x04
	lnctMD5            = 0x05
)

// Range list entry kinds (DWARF v5 table 7.25).
const (
	rleEndOfList    = 0x00
	rleBaseAddressx = 0x01
	rleStartxEndx   = 0x02
	rleStartxLength = 0x03
	rleOffsetPair   = 0x04
	rleBaseAddress  = 0x05
	rleStartEnd     = 0x06
	rleStartLength  = 0x07
)
